package aoserv

// Version is the release of this client library and tool.
const Version = "0.1.0"
