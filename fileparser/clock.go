package fileparser

const (
	// GPSEpochUnix is 1980-01-06T00:00:00Z in Unix seconds.
	GPSEpochUnix  = 315964800
	SecondsInWeek = 604800
	// LeapSeconds is the GPS-UTC offset applied by the autopilot tooling.
	LeapSeconds   = 18

	defaultMsgRate = 50.0
	imuMsgRate     = 50.0
)

// Clock assigns timestamps to records as they are read.
type Clock interface {
	MessageArrived(m *Message)
	SetMessageTimestamp(m *Message)
	RewindEvent()
}

// GPSTimeToUnix converts a GPS week and time of week in milliseconds to Unix seconds.
func GPSTimeToUnix(week int64, msec float64) float64 {
	return float64(GPSEpochUnix) + float64(SecondsInWeek*week) + msec*0.001 - LeapSeconds
}

type clockBase struct {
	timebase  float64
	timestamp float64
}

func (c *clockBase) MessageArrived(*Message) {}

func (c *clockBase) RewindEvent() {}

// UsecClock stamps records from their TimeUS column.
type UsecClock struct {
	clockBase
}

func (c *UsecClock) findTimeBase(gps *Message, firstUsStamp int64) {
	week, _ := gps.Int("GWk")
	gms, _ := gps.Float("GMS")
	timeUS, _ := gps.Int("TimeUS")
	c.timebase = GPSTimeToUnix(week, gms) - float64(timeUS)*1e-6
	c.timestamp = c.timebase + float64(firstUsStamp)*1e-6
}

func (c *UsecClock) SetMessageTimestamp(m *Message) {
	if m.firstColumn() == "TimeUS" {
		us, _ := m.Int("TimeUS")
		c.timestamp = c.timebase + float64(us)*1e-6
	} else if isGPS(m) {
		ms, _ := m.Int("TimeMS")
		c.timestamp = c.timebase + float64(ms)*0.001
	}
	m.timestamp = c.timestamp
}

// MsecClock stamps records from their TimeMS column.
type MsecClock struct {
	clockBase
}

func (c *MsecClock) findTimeBase(gps *Message, firstMsStamp int64) {
	week, _ := gps.Int("Week")
	timeMS, _ := gps.Float("TimeMS")
	t, _ := gps.Int("T")
	c.timebase = GPSTimeToUnix(week, timeMS) - float64(t)*0.001
	c.timestamp = c.timebase + float64(firstMsStamp)*0.001
}

func (c *MsecClock) SetMessageTimestamp(m *Message) {
	if m.firstColumn() == "TimeMS" {
		ms, _ := m.Int("TimeMS")
		c.timestamp = c.timebase + float64(ms)*0.001
	} else if isGPS(m) {
		t, _ := m.Int("T")
		c.timestamp = c.timebase + float64(t)*0.001
	}
	m.timestamp = c.timestamp
}

// PX4Clock follows the TIME.StartTime records of PX4 style logs.
type PX4Clock struct {
	clockBase
	px4Timebase float64
}

func (c *PX4Clock) findTimeBase(gps *Message) {
	gpsTime, _ := gps.Float("GPSTime")
	c.timebase = gpsTime*1e-6 - c.px4Timebase
}

func (c *PX4Clock) MessageArrived(m *Message) {
	if m.Type() == "TIME" {
		if start, ok := m.Float("StartTime"); ok {
			c.px4Timebase = start * 1e-6
		}
	}
}

func (c *PX4Clock) SetMessageTimestamp(m *Message) {
	m.timestamp = c.timebase + c.px4Timebase
}

// GPSInterpolated spreads records evenly between GPS fixes using the observed rate of
// each record type. It serves legacy logs whose records carry no time column.
type GPSInterpolated struct {
	clockBase
	MsgRate        map[string]float64
	Counts         map[string]int
	CountsSinceGPS map[string]int
}

func NewGPSInterpolated() *GPSInterpolated {
	return &GPSInterpolated{
		MsgRate:        make(map[string]float64),
		Counts:         make(map[string]int),
		CountsSinceGPS: make(map[string]int),
	}
}

func (clock *GPSInterpolated) RewindEvent() {
	clock.Counts = make(map[string]int)
	clock.CountsSinceGPS = make(map[string]int)
}

func (clock *GPSInterpolated) MessageArrived(m *Message) {
	msgType := m.Type()
	clock.Counts[msgType]++
	clock.CountsSinceGPS[msgType]++

	if isGPS(m) {
		clock.gpsMessageArrived(m)
	}
}

func (clock *GPSInterpolated) gpsMessageArrived(m *Message) {
	// msec style, usec style, then AvA style. PX4 style fixes carry GPSTime and are
	// handled by PX4Clock.
	week, ok := m.Int("Week")
	msec, _ := m.Float("TimeMS")
	if !ok {
		week, ok = m.Int("GWk")
		msec, _ = m.Float("GMS")
	}
	if !ok {
		if _, px4 := m.Get("GPSTime"); px4 {
			return
		}
		week, ok = m.Int("Wk")
		msec, _ = m.Float("TWk")
	}
	if !ok {
		return
	}

	t := GPSTimeToUnix(week, msec)
	deltat := t - clock.timebase
	if deltat <= 0 {
		return
	}

	for msgType, count := range clock.CountsSinceGPS {
		rate := float64(count) / deltat
		if rate > clock.MsgRate[msgType] {
			clock.MsgRate[msgType] = rate
		}
	}
	clock.MsgRate["IMU"] = imuMsgRate
	clock.timebase = t
	clock.CountsSinceGPS = make(map[string]int)
}

func (clock *GPSInterpolated) SetMessageTimestamp(m *Message) {
	// Types seen before the first fix have a rate measured against the zero timebase.
	rate := clock.MsgRate[m.Type()]
	if int(rate) == 0 {
		rate = defaultMsgRate
	}
	count := clock.CountsSinceGPS[m.Type()]
	m.timestamp = clock.timebase + float64(count)/rate
}

func isGPS(m *Message) bool {
	t := m.Type()
	return t == MsgTypeGPS || t == MsgTypeGPS2
}
