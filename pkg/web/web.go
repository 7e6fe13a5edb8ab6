// Package web holds HTTP sites and the JBoss instances bound to them.
package web

import (
	"cmp"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mesh-intelligence/aoserv/internal/catalog"
	"github.com/mesh-intelligence/aoserv/internal/codec"
	"github.com/mesh-intelligence/aoserv/internal/connector"
	"github.com/mesh-intelligence/aoserv/internal/protocol"
	"github.com/mesh-intelligence/aoserv/internal/rowstore"
	"github.com/mesh-intelligence/aoserv/pkg/linux"
	"github.com/mesh-intelligence/aoserv/pkg/types"
)

// Site is one web site on a server.
type Site struct {
	PKey             int32     `json:"pkey"`
	AOServer         int32     `json:"ao_server"`
	Name             string    `json:"name"`
	Package          string    `json:"package"`
	LinuxAccount     string    `json:"linux_account"`
	LinuxGroup       string    `json:"linux_group"`
	ServerAdmin      string    `json:"server_admin"`
	ContentSrc       *string   `json:"content_src,omitempty"`
	DisableLog       int32     `json:"disable_log"`
	IsManualConfig   bool      `json:"is_manual_config"`
	AwstatsSkipFiles *string   `json:"awstats_skip_files,omitempty"`
	PHPVersion       int32     `json:"php_version"`
	EnableCGI        bool      `json:"enable_cgi"`
	Created          time.Time `json:"created"`
}

// JBossSite is the JBoss instance serving a site. The bind fields are ids
// of network binds on the master.
type JBossSite struct {
	TomcatSite     int32 `json:"tomcat_site"`
	Version        int32 `json:"version"`
	JNPBind        int32 `json:"jnp_bind"`
	WebserverBind  int32 `json:"webserver_bind"`
	RMIBind        int32 `json:"rmi_bind"`
	HypersonicBind int32 `json:"hypersonic_bind"`
	JMXBind        int32 `json:"jmx_bind"`
}

// Sentinels for optional integer settings.
const (
	NotDisabled  = int32(-1)
	NoPHPVersion = int32(-1)
)

const (
	legacyConfigBackupLevel     = int16(1)
	legacyConfigBackupRetention = int16(7)
)

// SiteSchema is the wire layout of web.sites.
var SiteSchema = codec.MustSchema(types.WebSites, "pkey",
	codec.Field[Site]{Name: "pkey", Kind: codec.KindInt, Ptr: func(s *Site) any { return &s.PKey }},
	codec.Field[Site]{Name: "ao_server", Kind: codec.KindInt, Ptr: func(s *Site) any { return &s.AOServer }},
	codec.Field[Site]{Name: "name", Kind: codec.KindString, Ptr: func(s *Site) any { return &s.Name }},
	codec.Field[Site]{Name: "package", Kind: codec.KindString, Intern: true, Ptr: func(s *Site) any { return &s.Package }},
	codec.Field[Site]{Name: "linux_account", Kind: codec.KindString, Intern: true, Ptr: func(s *Site) any { return &s.LinuxAccount }},
	codec.Field[Site]{Name: "linux_group", Kind: codec.KindString, Intern: true, Ptr: func(s *Site) any { return &s.LinuxGroup }},
	codec.Field[Site]{Name: "server_admin", Kind: codec.KindString, Ptr: func(s *Site) any { return &s.ServerAdmin }},
	codec.Field[Site]{Name: "content_src", Kind: codec.KindNullString, Ptr: func(s *Site) any { return &s.ContentSrc }},
	codec.Field[Site]{Name: "config_backup_level", Kind: codec.KindShort, Until: protocol.V1_30, Legacy: legacyConfigBackupLevel},
	codec.Field[Site]{Name: "config_backup_retention", Kind: codec.KindShort, Until: protocol.V1_30, Legacy: legacyConfigBackupRetention},
	codec.Field[Site]{Name: "disable_log", Kind: codec.KindInt, Default: NotDisabled, Ptr: func(s *Site) any { return &s.DisableLog }},
	codec.Field[Site]{Name: "is_manual_config", Kind: codec.KindBool, Ptr: func(s *Site) any { return &s.IsManualConfig }},
	codec.Field[Site]{Name: "awstats_skip_files", Kind: codec.KindNullString, Since: protocol.V1_0A130, Ptr: func(s *Site) any { return &s.AwstatsSkipFiles }},
	codec.Field[Site]{Name: "php_version", Kind: codec.KindInt, Since: protocol.V1_80, Default: NoPHPVersion, Ptr: func(s *Site) any { return &s.PHPVersion }},
	codec.Field[Site]{Name: "enable_cgi", Kind: codec.KindBool, Since: protocol.V1_81_6, Default: true, Ptr: func(s *Site) any { return &s.EnableCGI }},
	codec.Field[Site]{Name: "created", Kind: codec.KindTime, Since: protocol.V1_83_0, Ptr: func(s *Site) any { return &s.Created }},
)

// JBossSiteSchema is the wire layout of web.jboss_sites.
var JBossSiteSchema = codec.MustSchema(types.WebJBossSites, "tomcat_site",
	codec.Field[JBossSite]{Name: "tomcat_site", Kind: codec.KindInt, Ptr: func(j *JBossSite) any { return &j.TomcatSite }},
	codec.Field[JBossSite]{Name: "version", Kind: codec.KindInt, Ptr: func(j *JBossSite) any { return &j.Version }},
	codec.Field[JBossSite]{Name: "jnp_bind", Kind: codec.KindInt, Ptr: func(j *JBossSite) any { return &j.JNPBind }},
	codec.Field[JBossSite]{Name: "webserver_bind", Kind: codec.KindInt, Ptr: func(j *JBossSite) any { return &j.WebserverBind }},
	codec.Field[JBossSite]{Name: "rmi_bind", Kind: codec.KindInt, Ptr: func(j *JBossSite) any { return &j.RMIBind }},
	codec.Field[JBossSite]{Name: "hypersonic_bind", Kind: codec.KindInt, Ptr: func(j *JBossSite) any { return &j.HypersonicBind }},
	codec.Field[JBossSite]{Name: "jmx_bind", Kind: codec.KindInt, Ptr: func(j *JBossSite) any { return &j.JMXBind }},
)

// Definitions returns the catalog entries of this package.
func Definitions() []catalog.Definition {
	return []catalog.Definition{
		{
			ID: types.WebSites, Codec: SiteSchema, AutoKey: true,
			References: []catalog.Reference{
				{Column: "ao_server", Target: types.LinuxServers, Description: "web site on server"},
			},
		},
		{
			ID: types.WebJBossSites, Codec: JBossSiteSchema,
			References: []catalog.Reference{
				{Column: "tomcat_site", Target: types.WebSites, Description: "JBoss instance of site"},
			},
			Invalidates: []types.TableID{types.WebSites},
		},
	}
}

// Schema gives typed access to the web tables.
type Schema struct {
	Sites      *connector.Table[int32, Site]
	JBossSites *connector.Table[int32, JBossSite]

	linux *linux.Schema
}

// NewSchema registers the web tables with c.
func NewSchema(c *connector.Connector, lx *linux.Schema) *Schema {
	return &Schema{
		Sites: connector.NewTable[int32](c, SiteSchema,
			rowstore.WithIndex("ao_server", func(s *Site) any { return s.AOServer }),
			rowstore.WithIndex("name", func(s *Site) any { return s.Name }),
		),
		JBossSites: connector.NewTable[int32](c, JBossSiteSchema),
		linux:      lx,
	}
}

// Site returns the site with the given key.
func (s *Schema) Site(ctx context.Context, pkey int32) (*Site, error) {
	return s.Sites.Get(ctx, pkey)
}

// SiteServer resolves the server hosting site.
func (s *Schema) SiteServer(ctx context.Context, site *Site) (*linux.Server, error) {
	srv, err := s.linux.Server(ctx, site.AOServer)
	if err != nil {
		return nil, fmt.Errorf("web site %q: %w", site.Name, err)
	}
	return srv, nil
}

// SiteByName finds the site called name on server.
func (s *Schema) SiteByName(ctx context.Context, server int32, name string) (*Site, error) {
	rows, err := s.Sites.GetByIndex(ctx, "name", name)
	if err != nil {
		return nil, err
	}
	for _, site := range rows {
		if site.AOServer == server {
			return site, nil
		}
	}
	return nil, fmt.Errorf("%w: web site %q on server %d", types.ErrNotFound, name, server)
}

// SitesOn returns the sites of one server.
func (s *Schema) SitesOn(ctx context.Context, server int32) ([]*Site, error) {
	return s.Sites.GetByIndex(ctx, "ao_server", server)
}

// SortedSites returns every site ordered by name, then server.
func (s *Schema) SortedSites(ctx context.Context) ([]*Site, error) {
	return s.Sites.Sorted(ctx, func(a, b *Site) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.AOServer, b.AOServer))
	})
}

func validSiteName(name string) bool {
	if name == "" || len(name) > 32 || name[0] == '-' {
		return false
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_' || r == '.') {
			return false
		}
	}
	return true
}

// NewSite is the input of AddSite.
type NewSite struct {
	AOServer     int32
	Name         string
	Package      string
	LinuxAccount string
	LinuxGroup   string
	ServerAdmin  string
	ContentSrc   *string
	PHPVersion   int32
}

// AddSite creates a site. The site starts with logging enabled, CGI
// enabled and generated configuration.
func (s *Schema) AddSite(ctx context.Context, in NewSite) (int32, error) {
	name := strings.ToLower(strings.TrimSpace(in.Name))
	if !validSiteName(name) {
		return 0, fmt.Errorf("%w: invalid web site name %q", types.ErrInvalidData, in.Name)
	}
	if !strings.Contains(in.ServerAdmin, "@") {
		return 0, fmt.Errorf("%w: invalid server admin %q", types.ErrInvalidData, in.ServerAdmin)
	}
	if _, err := s.SiteByName(ctx, in.AOServer, name); err == nil {
		return 0, fmt.Errorf("%w: web site %q on server %d", types.ErrDuplicateKey, name, in.AOServer)
	}
	php := in.PHPVersion
	if php == 0 {
		php = NoPHPVersion
	}
	return s.Sites.Add(ctx, &Site{
		AOServer:     in.AOServer,
		Name:         name,
		Package:      in.Package,
		LinuxAccount: in.LinuxAccount,
		LinuxGroup:   in.LinuxGroup,
		ServerAdmin:  in.ServerAdmin,
		ContentSrc:   in.ContentSrc,
		DisableLog:   NotDisabled,
		PHPVersion:   php,
		EnableCGI:    true,
		Created:      time.Now().UTC().Truncate(time.Millisecond),
	})
}

func (s *Schema) updateSite(ctx context.Context, pkey int32, change func(*Site)) error {
	site, err := s.Site(ctx, pkey)
	if err != nil {
		return err
	}
	updated := *site
	change(&updated)
	return s.Sites.Update(ctx, &updated)
}

// SetIsManualConfig switches whether the site configuration is maintained
// by hand.
func (s *Schema) SetIsManualConfig(ctx context.Context, pkey int32, manual bool) error {
	return s.updateSite(ctx, pkey, func(site *Site) { site.IsManualConfig = manual })
}

// SetPHPVersion selects the PHP version of a site. NoPHPVersion disables PHP.
func (s *Schema) SetPHPVersion(ctx context.Context, pkey, version int32) error {
	return s.updateSite(ctx, pkey, func(site *Site) { site.PHPVersion = version })
}

// RemoveSite deletes a site. It fails while a JBoss instance remains.
func (s *Schema) RemoveSite(ctx context.Context, pkey int32) error {
	return s.Sites.Remove(ctx, pkey)
}

// JBossSite returns the JBoss instance of a site.
func (s *Schema) JBossSite(ctx context.Context, site int32) (*JBossSite, error) {
	return s.JBossSites.Get(ctx, site)
}

// JBossSiteSite resolves the site j serves.
func (s *Schema) JBossSiteSite(ctx context.Context, j *JBossSite) (*Site, error) {
	site, err := s.Site(ctx, j.TomcatSite)
	if err != nil {
		return nil, fmt.Errorf("jboss site %d: %w", j.TomcatSite, err)
	}
	return site, nil
}

// AddJBossSite attaches a JBoss instance to an existing site.
func (s *Schema) AddJBossSite(ctx context.Context, j *JBossSite) error {
	_, err := s.JBossSites.Add(ctx, j)
	return err
}
