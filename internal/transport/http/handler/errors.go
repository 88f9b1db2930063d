package handler

const (
	errInternalServer = "Internal server error"

	errScheduleNotFound = "Schedule not found"
	errValidationFailed = "Schedule failed validation"
	errScheduleConflict = "Schedule conflicts with existing schedules"
	errScheduleExists   = "Schedule already exists"

	errConflictNotFound = "Conflict not found"

	errInvalidConfig = "Invalid scheduler config"
	errInvalidWindow = "Invalid report window"

	errRateLimited = "Too many webhook requests"
)
