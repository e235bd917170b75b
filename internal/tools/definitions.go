package tools

// Definition describes one tool for the voice agent's session
// configuration. Parameters is a JSON-schema object.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Definitions returns the fixed, closed tool catalogue. The dispatch
// switch in Execute must cover exactly these names.
func Definitions() []Definition {
	return []Definition{
		{
			Name:        "lookupCustomer",
			Description: "Look up an existing customer record by their phone number.",
			Parameters: schema(map[string]any{
				"phone": prop("string", "Customer phone number in E.164 format, e.g. +447700900123"),
			}, "phone"),
		},
		{
			Name:        "checkAvailability",
			Description: "Check which appointment times are available on a given date.",
			Parameters: schema(map[string]any{
				"date":    prop("string", "Requested date, YYYY-MM-DD"),
				"service": prop("string", "Optional service name the caller asked about"),
			}, "date"),
		},
		{
			Name:        "createBooking",
			Description: "Create a confirmed appointment. Always confirm details with the caller first.",
			Parameters: schema(map[string]any{
				"customerPhone": prop("string", "Caller phone number in E.164 format"),
				"customerName":  prop("string", "Caller name, if given"),
				"service":       prop("string", "Service being booked"),
				"dateTime":      prop("string", "Appointment start, e.g. 2024-06-10T10:00:00"),
			}, "customerPhone", "service", "dateTime"),
		},
		{
			Name:        "cancelBooking",
			Description: "Cancel the caller's confirmed appointment, optionally on a specific date.",
			Parameters: schema(map[string]any{
				"customerPhone":   prop("string", "Caller phone number in E.164 format"),
				"appointmentDate": prop("string", "Optional date filter, YYYY-MM-DD"),
			}, "customerPhone"),
		},
		{
			Name:        "takeMessage",
			Description: "Record a message for the business owner when the caller's request cannot be handled.",
			Parameters: schema(map[string]any{
				"callerPhone": prop("string", "Caller phone number"),
				"callerName":  prop("string", "Caller name, if given"),
				"message":     prop("string", "The message content"),
				"urgency":     prop("string", "One of low, medium, high; defaults to medium"),
			}, "callerPhone", "message"),
		},
	}
}

func schema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}
