package events

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogSink writes every event as a structured log line.
type LogSink struct{}

// NewLogSink creates a sink writing to the global logger.
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Consume implements Sink.
func (s *LogSink) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		e := log.WithLevel(levelFor(evt.Name)).Str("event", string(evt.Name))
		switch d := evt.Data.(type) {
		case NodePayload:
			e = e.Str("node_id", d.NodeID)
		case HeartbeatPayload:
			e = e.Str("node_id", d.NodeID).
				Str("status", string(d.Status)).
				Float64("cpu_percent", d.Resources.CPUPercent).
				Float64("error_rate", d.Health.ErrorRate)
		case UnhealthyPayload:
			e = e.Str("node_id", d.NodeID).Str("reason", d.Reason)
		case InstancePayload:
			e = e.Str("instance_id", d.InstanceID).Str("node_id", d.NodeID)
			if d.Reason != "" {
				e = e.Str("reason", d.Reason)
			}
		case AssignedPayload:
			e = e.Str("instance_id", d.InstanceID).Str("job_id", d.JobID)
		case ReleasedPayload:
			e = e.Str("instance_id", d.InstanceID).Bool("success", d.Result.Success).Bool("recycled", d.Recycled)
		case TimeoutPayload:
			e = e.Str("instance_id", d.InstanceID).Dur("job_duration", d.JobDuration)
			if d.Job != nil {
				e = e.Str("job_id", d.Job.ID)
			}
		case OptimizedPayload:
			e = e.Str("instance_id", d.InstanceID).
				Float64("memory_before_mb", d.Before.MemoryMB).
				Float64("memory_after_mb", d.After.MemoryMB)
		case JobPayload:
			if d.Job != nil {
				e = e.Str("job_id", d.Job.ID).Str("priority", d.Job.Priority.String())
			}
			e = e.Int("queue_depth", d.QueueDepth)
		case JobAssignedPayload:
			if d.Job != nil {
				e = e.Str("job_id", d.Job.ID)
			}
			if d.Instance != nil {
				e = e.Str("instance_id", d.Instance.ID)
			}
		case ScaledUpPayload:
			e = e.Int("requested", d.Requested).Int("created", d.Created)
		case ScaledDownPayload:
			e = e.Int("requested", d.Requested).Int("destroyed", d.Destroyed)
		default:
			e = e.Interface("data", d)
		}
		e.Msg("Pool event")
	}
	return nil
}

// Close implements Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func levelFor(name Name) zerolog.Level {
	switch name {
	case NodeHeartbeat, InstanceAssigned, InstanceReleased, JobAssigned:
		return zerolog.DebugLevel
	case NodeUnhealthy, InstanceTimeout:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}
