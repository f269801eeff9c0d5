package socket

// Outbound events.
const (
	EventJoinRoom     = "joinRoom"
	EventLeaveRoom    = "leaveRoom"
	EventSendMessage  = "sendMessage"
	EventTyping       = "typing"
	EventMarkAsRead   = "markAsRead"
	EventOnlineStatus = "updateOnlineStatus"
	EventDelete       = "deleteMessage"
)

// Inbound events.
const (
	EventNewMessage       = "newMessage"
	EventUserTyping       = "userTyping"
	EventMessagesRead     = "messagesRead"
	EventMessageDeleted   = "messageDeleted"
	EventUserOnline       = "userOnlineStatus"
	EventMessageConfirmed = "messageConfirmed"
	EventMessageError     = "messageError"
)

// EventReconnected is raised locally, never by the server, after the connection
// comes back. Events missed while down are not replayed.
const EventReconnected = "reconnected"
