package bot

import "errors"

var (
	// ErrClosed is returned by HandleMessage after Close.
	ErrClosed = errors.New("bot bridge closed")

	// ErrNoAttachmentSource is returned when an attachment cannot be opened.
	ErrNoAttachmentSource = errors.New("attachment has no source")
)
