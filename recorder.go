package appagent

import (
	"context"
	"time"
)

// DeviceMeta carries slow-changing device facts probed once at discovery.
type DeviceMeta struct {
	OSType    string
	OSVersion string
	IsRoot    string
}

// RunUpdate is one row of engine status pushed to the run recorder.
type RunUpdate struct {
	DeviceSerial    string
	DeviceName      string
	Stage           string
	OSType          string
	OSVersion       string
	IsRoot          string
	VideosProcessed int64
	LikesGiven      int64
	CommentsPosted  int64
	ErrorCount      int64
	Restarts        int
	LastError       string
	AgentVersion    string
	LastSeenAt      time.Time
}

// RunRecorder persists engine status snapshots. Implementations must tolerate
// repeated upserts for the same device serial.
type RunRecorder interface {
	UpsertRuns(ctx context.Context, updates []RunUpdate) error
}

type noopRecorder struct{}

func (noopRecorder) UpsertRuns(ctx context.Context, updates []RunUpdate) error { return nil }
