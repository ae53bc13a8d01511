package enum

type NoticeLevel string

const (
	NoticeLevelInfo  NoticeLevel = "info"
	NoticeLevelWarn  NoticeLevel = "warn"
	NoticeLevelError NoticeLevel = "error"
)
