// Package typhonweb is the root of the Typhon web console module.
package typhonweb

// Version is the console release reported by the CLI, the HTTP health
// endpoint and the MCP server implementation info.
const Version = "0.3.0"
