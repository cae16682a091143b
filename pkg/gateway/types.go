package gateway

import "genesis/pkg/api"

// Channel, SignalingChannel, ChannelContext, UnifiedMessage, SessionContext
// and FileAttachment are aliases onto pkg/api's definitions: the gateway
// package used to declare its own copies before api.Channel/api.AgentEngine
// were extracted into a shared contract package, and GatewayManager/
// GatewayBuilder now build exclusively against api's types. The aliases keep
// the remaining caller that still spells "gateway.UnifiedMessage" etc.
// (pkg/channels/registry.go) compiling against the same underlying type
// rather than a second, incompatible struct.
type Channel = api.Channel
type SignalingChannel = api.SignalingChannel
type ChannelContext = api.ChannelContext
type UnifiedMessage = api.UnifiedMessage
type SessionContext = api.SessionContext
type FileAttachment = api.FileAttachment
