package ports

// Well-known routes the session and engine navigate between. The
// router itself is an external collaborator.
const (
	RouteVerify = "/"
	RouteChat   = "/chatbox"
)

// Notifier surfaces transient, human-readable notifications (toasts).
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// Navigator signals a view change to the hosting UI.
type Navigator interface {
	NavigateTo(route string)
}
