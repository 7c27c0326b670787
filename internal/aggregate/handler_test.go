// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package aggregate

import (
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/botwatch/internal/events"
	"github.com/tomtom215/botwatch/internal/model"
)

func TestEvidenceHandlerProcessesEvent(t *testing.T) {
	st := &memStore{}
	st.addSighting(model.LabelLikelyBot, 0.4)
	handler := NewEvidenceHandler(newTestAggregator(st))

	payload, err := events.MarshalEvidenceAppended(&events.EvidenceAppended{
		EvidenceID: "ev-1",
		Player:     testPlayer,
		Kind:       model.KindSighting,
		Seq:        1,
		RecordedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	if err := handler(message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}
	if st.state == nil || st.state.State != model.StateSuspicious {
		t.Error("Expected handler to trigger aggregation")
	}
}

func TestEvidenceHandlerRejectsMalformedPayload(t *testing.T) {
	handler := NewEvidenceHandler(newTestAggregator(&memStore{}))

	err := handler(message.NewMessage(watermill.NewUUID(), []byte("not json")))
	if err == nil {
		t.Fatal("Malformed payload must return an error for the poison queue")
	}
}
