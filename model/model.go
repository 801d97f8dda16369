/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition is returned by every transition function when the
// requested status change is not permitted from the current status.
var ErrInvalidTransition = errors.New("invalid status transition")

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix,
// e.g. "dist_6f1c...".
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// EffectKind names a side effect a caller must apply after a transition.
type EffectKind string

const (
	// EffectPersist asks the caller to write the new value.
	EffectPersist EffectKind = "persist"
	// EffectScheduleRetry asks the caller to schedule another executor pass at Effect.At.
	EffectScheduleRetry EffectKind = "schedule_retry"
	// EffectNotify asks the caller to publish a status change event.
	EffectNotify EffectKind = "notify"
)

// Effect is a side effect produced by a transition function. Transition
// functions never perform I/O; they describe it.
type Effect struct {
	Kind EffectKind
	At   time.Time
}

// HasEffect reports whether kind is present in effects.
func HasEffect(effects []Effect, kind EffectKind) bool {
	for _, e := range effects {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func transitionError(entity, id string, from, to interface{}) error {
	return fmt.Errorf("%w: %s %s cannot move from %v to %v", ErrInvalidTransition, entity, id, from, to)
}

// StartOfDay truncates t to midnight UTC, discarding the time of day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
