package supervisor

import (
	"context"
	"time"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/log"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/redis"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

const (
	slotKeyPrefix  = "magicqc:slot:"
	slotChannel    = "magicqc:slots"
	slotKeyTimeout = 24 * time.Hour
)

// MirrorObserver copies each slot record to Redis so dashboards on other
// machines can follow the station without polling its local API.
type MirrorObserver struct {
	log    *logrus.Logger
	client redis.IRedis
}

func NewMirrorObserver(logger *logrus.Logger, client redis.IRedis) *MirrorObserver {
	return &MirrorObserver{log: logger, client: client}
}

func (o *MirrorObserver) SlotChanged(ctx context.Context, record entity.ProcessRecord) {
	payload, err := jsoniter.Marshal(record)
	if err != nil {
		o.log.WithFields(log.Fields{
			"kind":  record.Kind,
			"error": err.Error(),
		}).Error("Failed to encode slot record")
		return
	}

	if err := o.client.SetStatus(ctx, slotKeyPrefix+string(record.Kind), payload, slotKeyTimeout); err != nil {
		o.log.WithFields(log.Fields{
			"kind":  record.Kind,
			"error": err.Error(),
		}).Warn("Failed to mirror slot state")
		return
	}

	if err := o.client.Publish(ctx, slotChannel, payload); err != nil {
		o.log.WithFields(log.Fields{
			"kind":  record.Kind,
			"error": err.Error(),
		}).Warn("Failed to publish slot state")
	}
}

// Orphans returns the mirrored records of slots a previous host left
// running. Their workers may still hold the camera.
func (o *MirrorObserver) Orphans(ctx context.Context, kinds ...entity.WorkerKind) []entity.ProcessRecord {
	var orphans []entity.ProcessRecord
	for _, kind := range kinds {
		payload, err := o.client.GetStatus(ctx, slotKeyPrefix+string(kind))
		if err != nil || len(payload) == 0 {
			continue
		}

		var record entity.ProcessRecord
		if err := jsoniter.Unmarshal(payload, &record); err != nil {
			o.log.WithFields(log.Fields{
				"kind":  kind,
				"error": err.Error(),
			}).Warn("Mirrored slot record unreadable")
			continue
		}
		if record.Running && record.PID > 0 {
			orphans = append(orphans, record)
		}
	}
	return orphans
}
