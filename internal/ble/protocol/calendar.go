package protocol

// CalendarEvent is a scheduled action stored on the appliance.
type CalendarEvent struct {
	Timezone       uint32
	UID            uint8
	RecurrenceType uint8
	RepeatRule     uint8
	RepeatType     uint8
	ActionType     uint8
	Timestamp      uint64 // five bytes on the wire
}

const calendarEventSize = 15

// Enabled reports whether the event is active.
func (e CalendarEvent) Enabled() bool { return e.RecurrenceType&1 == 1 }

// DecodeCalendarEvent decodes the event layout; byte 8 is reserved.
func DecodeCalendarEvent(p []byte) (CalendarEvent, error) {
	if err := need(p, calendarEventSize); err != nil {
		return CalendarEvent{}, err
	}
	return CalendarEvent{
		Timezone:       Uint32(p[0:4]),
		UID:            p[4],
		RecurrenceType: p[5],
		RepeatRule:     p[6],
		RepeatType:     p[7],
		ActionType:     p[9],
		Timestamp:      Uint40(p[10:15]),
	}, nil
}

func (e CalendarEvent) Bytes() []byte {
	p := make([]byte, MaxPayload)
	PutUint32(p[0:4], e.Timezone)
	p[4] = e.UID
	p[5] = e.RecurrenceType
	p[6] = e.RepeatRule
	p[7] = e.RepeatType
	p[9] = e.ActionType
	PutUint40(p[10:15], e.Timestamp)
	return p
}

// AddEventResult is the reply to adding a calendar event.
type AddEventResult struct {
	UID uint8
	Err uint8
}

// DecodeAddEventResult decodes the uid and error code.
func DecodeAddEventResult(p []byte) (AddEventResult, error) {
	if err := need(p, 2); err != nil {
		return AddEventResult{}, err
	}
	return AddEventResult{UID: p[0], Err: p[1]}, nil
}

func (r AddEventResult) Bytes() []byte { return []byte{r.UID, r.Err} }

// CalendarInfo describes the appliance calendar capacity.
type CalendarInfo struct {
	Version      uint8
	MaxTasks     uint8
	CurrentTasks uint8
}

// DecodeCalendarInfo decodes version, capacity and current task count.
func DecodeCalendarInfo(p []byte) (CalendarInfo, error) {
	if err := need(p, 3); err != nil {
		return CalendarInfo{}, err
	}
	return CalendarInfo{Version: p[0], MaxTasks: p[1], CurrentTasks: p[2]}, nil
}

func (r CalendarInfo) Bytes() []byte { return []byte{r.Version, r.MaxTasks, r.CurrentTasks} }
