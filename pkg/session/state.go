package session

import "fmt"

// Direction направление сессии, задается при создании
type Direction int

const (
	// Incoming сессия создана входящим INVITE
	Incoming Direction = iota
	// Outgoing сессия создана локально
	Outgoing
)

func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// State состояние жизненного цикла сессии
type State string

const (
	StateInvited    State = "Invited"
	StateAccepting  State = "Accepting"
	StateInitiated  State = "Initiated"
	StateStarted    State = "Started"
	StateAborted    State = "Aborted"
	StateRejected   State = "Rejected"
	StateTerminated State = "Terminated"
	StateFailed     State = "Failed"
)

func (s State) String() string { return string(s) }

// IsTerminal из состояния нет переходов
func (s State) IsTerminal() bool {
	switch s {
	case StateAborted, StateRejected, StateTerminated, StateFailed:
		return true
	}
	return false
}

// ReasonCode уточняет терминальное состояние
type ReasonCode int

const (
	ReasonUnspecified ReasonCode = iota
	ReasonByUser
	ReasonByRemote
	ReasonBySystem
	ReasonByTimeout
	ReasonConnectionLost
	ReasonFailedInitiation
	ReasonFailedSaving
	ReasonFailedDataTransfer
	ReasonLowSpace
	ReasonMaxSize
)

var reasonNames = map[ReasonCode]string{
	ReasonUnspecified:        "unspecified",
	ReasonByUser:             "by-user",
	ReasonByRemote:           "by-remote",
	ReasonBySystem:           "by-system",
	ReasonByTimeout:          "by-timeout",
	ReasonConnectionLost:     "connection-lost",
	ReasonFailedInitiation:   "failed-initiation",
	ReasonFailedSaving:       "failed-saving",
	ReasonFailedDataTransfer: "failed-data-transfer",
	ReasonLowSpace:           "low-space",
	ReasonMaxSize:            "max-size",
}

func (r ReasonCode) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// ErrorCode низкоуровневая ошибка сессии
type ErrorCode int

const (
	SessionInitiationFailed ErrorCode = iota + 1
	SessionInitiationDeclined
	SessionInitiationCancelled
	SendResponseFailed
	MediaSavingFailed
	MediaTransferFailed
	MediaStreamingFailed
	MediaUploadFailed
	MediaDownloadFailed
	NotEnoughStorageSpace
	MediaSizeTooBig
)

func (c ErrorCode) String() string {
	switch c {
	case SessionInitiationFailed:
		return "SESSION_INITIATION_FAILED"
	case SessionInitiationDeclined:
		return "SESSION_INITIATION_DECLINED"
	case SessionInitiationCancelled:
		return "SESSION_INITIATION_CANCELLED"
	case SendResponseFailed:
		return "SEND_RESPONSE_FAILED"
	case MediaSavingFailed:
		return "MEDIA_SAVING_FAILED"
	case MediaTransferFailed:
		return "MEDIA_TRANSFER_FAILED"
	case MediaStreamingFailed:
		return "MEDIA_STREAMING_FAILED"
	case MediaUploadFailed:
		return "MEDIA_UPLOAD_FAILED"
	case MediaDownloadFailed:
		return "MEDIA_DOWNLOAD_FAILED"
	case NotEnoughStorageSpace:
		return "NOT_ENOUGH_STORAGE_SPACE"
	case MediaSizeTooBig:
		return "MEDIA_SIZE_TOO_BIG"
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Outcome терминальное состояние и причина
type Outcome struct {
	State  State
	Reason ReasonCode
}

// MapError переводит код ошибки в терминальное состояние. ok=false для
// SessionInitiationCancelled: отмена уже сообщена через путь abort.
// Неизвестный код означает ошибку программы и вызывает панику.
func MapError(code ErrorCode) (out Outcome, ok bool) {
	switch code {
	case SessionInitiationFailed, SendResponseFailed:
		return Outcome{StateFailed, ReasonFailedInitiation}, true
	case SessionInitiationDeclined:
		return Outcome{StateRejected, ReasonByRemote}, true
	case MediaSavingFailed:
		return Outcome{StateFailed, ReasonFailedSaving}, true
	case MediaTransferFailed, MediaStreamingFailed, MediaUploadFailed, MediaDownloadFailed:
		return Outcome{StateFailed, ReasonFailedDataTransfer}, true
	case NotEnoughStorageSpace:
		return Outcome{StateRejected, ReasonLowSpace}, true
	case MediaSizeTooBig:
		return Outcome{StateRejected, ReasonMaxSize}, true
	case SessionInitiationCancelled:
		return Outcome{}, false
	}
	panic(fmt.Sprintf("session: unmapped error code %d", int(code)))
}

// TerminationCause причина прекращения сессии
type TerminationCause int

const (
	CauseSystem TerminationCause = iota
	CauseUser
	CauseTimeout
	CauseConnectionLost
	CauseRemote
)

func (c TerminationCause) String() string {
	switch c {
	case CauseSystem:
		return "system"
	case CauseUser:
		return "user"
	case CauseTimeout:
		return "timeout"
	case CauseConnectionLost:
		return "connection-lost"
	case CauseRemote:
		return "remote"
	}
	return fmt.Sprintf("cause(%d)", int(c))
}

// AbortOutcome состояние после прекращения начатой сессии.
// После передачи контента прекращение удаленной стороной это штатное
// завершение.
func AbortOutcome(cause TerminationCause, contentTransferred bool) Outcome {
	switch cause {
	case CauseUser:
		return Outcome{StateAborted, ReasonByUser}
	case CauseConnectionLost:
		return Outcome{StateFailed, ReasonConnectionLost}
	case CauseRemote:
		if contentTransferred {
			return Outcome{StateTerminated, ReasonUnspecified}
		}
		return Outcome{StateAborted, ReasonByRemote}
	default:
		return Outcome{StateAborted, ReasonBySystem}
	}
}

// RejectOutcome состояние после отклонения приглашения
func RejectOutcome(cause TerminationCause) Outcome {
	switch cause {
	case CauseUser:
		return Outcome{StateRejected, ReasonByUser}
	case CauseTimeout:
		return Outcome{StateRejected, ReasonByTimeout}
	case CauseRemote:
		return Outcome{StateRejected, ReasonByRemote}
	default:
		return Outcome{StateRejected, ReasonBySystem}
	}
}

// InvitationStatus ответ пользователя на входящее приглашение
type InvitationStatus int

const (
	InvitationNotAnswered InvitationStatus = iota
	InvitationAccepted
	InvitationRejected
	InvitationCancelled
	InvitationTimeout
	InvitationRejectedBySystem
	InvitationDeleted
	InvitationRejectedDecline
	InvitationRejectedBusyHere
	InvitationRejectedForbidden
)

var invitationNames = map[InvitationStatus]string{
	InvitationNotAnswered:       "not-answered",
	InvitationAccepted:          "accepted",
	InvitationRejected:          "rejected",
	InvitationCancelled:         "cancelled",
	InvitationTimeout:           "timeout",
	InvitationRejectedBySystem:  "rejected-by-system",
	InvitationDeleted:           "deleted",
	InvitationRejectedDecline:   "rejected-decline",
	InvitationRejectedBusyHere:  "rejected-busy-here",
	InvitationRejectedForbidden: "rejected-forbidden",
}

func (s InvitationStatus) String() string {
	if name, ok := invitationNames[s]; ok {
		return name
	}
	return fmt.Sprintf("invitation(%d)", int(s))
}

// DeliveryStatus статус доставки IMDN (RFC 5438)
type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryDisplayed DeliveryStatus = "displayed"
	DeliveryError     DeliveryStatus = "error"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryForbidden DeliveryStatus = "forbidden"
)

// ParseDeliveryStatus разбирает значение статуса IMDN
func ParseDeliveryStatus(value string) (DeliveryStatus, bool) {
	switch s := DeliveryStatus(value); s {
	case DeliveryDelivered, DeliveryDisplayed, DeliveryError, DeliveryFailed, DeliveryForbidden:
		return s, true
	}
	return "", false
}
