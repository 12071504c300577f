// Package tool is the dispatch core shared by every transport.
//
// The package is split by concern:
//   - registry: the ordered, read-only catalog of tool descriptors
//   - schema: typed argument binding and input-schema generation
//   - invoker: validation, fault containment, and result envelopes
//   - error: the dispatch error taxonomy
//   - observability: invocation observation hooks
//
// Transports (the MCP channel and the HTTP endpoint) only frame requests and
// results; what a tool does lives behind the Tool interface.
package tool
