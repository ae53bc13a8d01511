package enum

// ChannelState is the live update channel's connection state.
type ChannelState string

const (
	ChannelStateDisconnected ChannelState = "disconnected"
	ChannelStateConnecting   ChannelState = "connecting"
	ChannelStateSubscribed   ChannelState = "subscribed"
)
