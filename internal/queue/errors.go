package queue

import "errors"

var (
	ErrInvalidCounter       = errors.New("invalid counter")
	ErrUnrecognizedOperator = errors.New("unrecognized operator")
	ErrNoneAvailable        = errors.New("no waiting ticket")
	ErrNoCurrentTicket      = errors.New("no current ticket")
	ErrValidation           = errors.New("validation failed")
	ErrTicketNotFound       = errors.New("ticket not found")
)
