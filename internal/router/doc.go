// Package router demultiplexes pub/sub frames to typed handlers.
//
// The router binds one identity at a time: binding subscribes the identity's
// topics, rebinding or unbinding drops them. Frames that fail to parse are
// logged and dropped; frames tagged with a different userId than the bound
// one are dropped silently, which defends against races during rapid
// logout/login switches. Neither ever disturbs the connection itself.
package router
