package protocol

// UsageStats is the reply of the usage statistics command: heating element
// counters accumulated since manufacture.
type UsageStats struct {
	TenNum     uint8
	Err        uint8
	WorkTime   uint32 // seconds
	SpentPower uint32 // watt hours
	RelayCount uint32

	legacy bool // only SpentPower is meaningful
}

const usageStatsSize = 14

// DecodeUsageStats decodes a usage statistics payload in the layout of the
// given era. Legacy firmware only reports the spent power reliably.
func DecodeUsageStats(era Era, p []byte) (UsageStats, error) {
	if err := need(p, usageStatsSize); err != nil {
		return UsageStats{}, err
	}
	r := UsageStats{
		TenNum:     p[0],
		Err:        p[1],
		WorkTime:   Uint32(p[2:6]),
		SpentPower: Uint32(p[6:10]),
		RelayCount: Uint32(p[10:14]),
	}
	if era == EraLegacy {
		r = UsageStats{SpentPower: r.SpentPower, legacy: true}
	}
	return r, nil
}

func (r UsageStats) Bytes() []byte {
	p := make([]byte, usageStatsSize)
	p[0] = r.TenNum
	p[1] = r.Err
	PutUint32(p[2:6], r.WorkTime)
	PutUint32(p[6:10], r.SpentPower)
	PutUint32(p[10:14], r.RelayCount)
	return p
}

// Statistics converts the reply into the mergeable statistics form.
func (r UsageStats) Statistics() Statistics {
	if r.legacy {
		return Statistics{SpentPower: uint32Ptr(r.SpentPower)}
	}
	return Statistics{
		WorkTime:   uint32Ptr(r.WorkTime),
		SpentPower: uint32Ptr(r.SpentPower),
		RelayCount: uint32Ptr(r.RelayCount),
	}
}

// CycleStats is the reply of the cycle count statistics command.
type CycleStats struct {
	Err   uint8
	Count uint32
}

const cycleStatsSize = 7

// DecodeCycleStats decodes a cycle count payload: error code at offset 2 and
// the count at offset 3.
func DecodeCycleStats(p []byte) (CycleStats, error) {
	if err := need(p, cycleStatsSize); err != nil {
		return CycleStats{}, err
	}
	return CycleStats{Err: p[2], Count: Uint32(p[3:7])}, nil
}

func (r CycleStats) Bytes() []byte {
	p := make([]byte, MaxPayload)
	p[2] = r.Err
	PutUint32(p[3:7], r.Count)
	return p
}

// Statistics converts the reply into the mergeable statistics form.
func (r CycleStats) Statistics() Statistics {
	return Statistics{OnTimes: uint32Ptr(r.Count)}
}

// Statistics is the usage summary assembled from the usage and cycle count
// replies. A nil field is unknown.
type Statistics struct {
	WorkTime   *uint32
	SpentPower *uint32
	RelayCount *uint32
	OnTimes    *uint32
}

// Merge returns s updated with every known field of newer. Values are
// replaced, never summed, and unknown fields in newer keep the value of s.
func (s Statistics) Merge(newer Statistics) Statistics {
	return Statistics{
		WorkTime:   newest(s.WorkTime, newer.WorkTime),
		SpentPower: newest(s.SpentPower, newer.SpentPower),
		RelayCount: newest(s.RelayCount, newer.RelayCount),
		OnTimes:    newest(s.OnTimes, newer.OnTimes),
	}
}

func newest(old, newer *uint32) *uint32 {
	if newer == nil {
		return old
	}
	return newer
}

func uint32Ptr(v uint32) *uint32 { return &v }
