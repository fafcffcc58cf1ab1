package attendance

// Room-scoped real-time events.
const (
	// client -> server
	EventJoinClass       = "join_class"
	EventLeaveClass      = "leave_class"
	EventStartAttendance = "start_attendance"
	EventStopAttendance  = "stop_attendance"
	EventMarkAttendance  = "mark_attendance"

	// server -> room
	EventStarted = "attendance_started"
	EventStopped = "attendance_stopped"
	EventUpdate  = "attendance_update"

	// server -> sender only
	EventSuccess = "attendance_success"
	EventError   = "attendance_error"
)

// StatusPresent is the only status a scan can produce; absences are implicit.
const StatusPresent = "Present"

type (
	StartedPayload struct {
		IsActive bool `json:"is_active"`
	}

	StoppedPayload struct {
		IsActive bool `json:"is_active"`
	}

	UpdatePayload struct {
		StudentID   string `json:"student_id"`
		StudentName string `json:"student_name"`
		Status      string `json:"status"`
	}

	ResultPayload struct {
		Message string `json:"message"`
	}
)
