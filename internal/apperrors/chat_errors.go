package apperrors

var (
	ErrEmptyBody            = InvalidArg("message body cannot be empty")
	ErrBodyTooLong          = InvalidArg("message body is too long")
	ErrSelfConversation     = InvalidArg("cannot start a conversation with yourself")
	ErrMissingParticipant   = InvalidArg("participant id is required")
	ErrMissingConversation  = InvalidArg("conversation id is required")
	ErrParticipantNotFound  = NotFound("participant not found or inactive")
	ErrConversationNotFound = NotFound("conversation not found")
	ErrNotParticipant       = Forbidden("not a conversation participant")
	ErrInvalidSession       = Unauthorized("invalid session")
)
