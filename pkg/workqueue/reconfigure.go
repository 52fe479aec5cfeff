// Copyright 2024 The Kestrel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workqueue

import (
	"encoding/json"
	"fmt"

	"github.com/mattbaird/jsonpatch"

	"github.com/kestrel-kernel/core/pkg/errno"
	"github.com/kestrel-kernel/core/pkg/klog"
)

// bounds is the JSON-serializable view of a Workqueue's tunables that
// ApplyReconfigure patches against — the administrative surface spec.md
// itself doesn't name, supplementing it for a control plane that wants to
// adjust a live workqueue's pool bounds without recreating it.
type bounds struct {
	MinActive int `json:"minActive"`
	MaxActive int `json:"maxActive"`
}

func (wq *Workqueue) boundsLocked() bounds {
	return bounds{MinActive: wq.minActive, MaxActive: wq.maxActive}
}

// ApplyReconfigure applies a JSON Patch document (RFC 6902, the format
// github.com/mattbaird/jsonpatch's JsonPatchOperation models) against wq's
// {minActive, maxActive} document. Only "replace" operations targeting
// those two fields are accepted; anything else is EINVAL. The resulting
// bounds are clamped through the same rules as Create/CreateWithMinActive
// (B2), and a waiting manager is poked so it re-evaluates pool size
// against the new bounds on its very next loop.
func ApplyReconfigure(wq *Workqueue, patch []byte) errno.Errno {
	var ops []jsonpatch.JsonPatchOperation
	if err := json.Unmarshal(patch, &ops); err != nil {
		return errno.EINVAL
	}

	wq.lock.Lock()
	before := wq.boundsLocked()
	after := before

	for _, op := range ops {
		if op.Operation != "replace" {
			wq.lock.Unlock()
			return errno.EINVAL
		}
		n, ok := asInt(op.Value)
		if !ok {
			wq.lock.Unlock()
			return errno.EINVAL
		}
		switch op.Path {
		case "/minActive":
			after.MinActive = n
		case "/maxActive":
			after.MaxActive = n
		default:
			wq.lock.Unlock()
			return errno.EINVAL
		}
	}

	after = clampBounds(after)
	wq.minActive = after.MinActive
	wq.maxActive = after.MaxActive
	wq.lock.Unlock()

	logReconfigureDiff(wq.name, before, after)
	wq.pokeManager()
	return errno.OK
}

func clampBounds(b bounds) bounds {
	if b.MaxActive <= 0 {
		b.MaxActive = DefaultMaxActive
	}
	if b.MaxActive > MaxWorkqueueActive {
		b.MaxActive = MaxWorkqueueActive
	}
	if b.MinActive < 0 {
		b.MinActive = 0
	}
	if b.MinActive > b.MaxActive {
		b.MinActive = b.MaxActive
	}
	return b
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// logReconfigureDiff records the before/after bounds change using
// jsonpatch.CreatePatch's own diff representation, so the audit trail is
// expressed in the same RFC 6902 vocabulary ApplyReconfigure accepts on
// the way in — a round-trip through the same library rather than a
// hand-rolled diff format.
func logReconfigureDiff(name string, before, after bounds) {
	beforeJSON, err1 := json.Marshal(before)
	afterJSON, err2 := json.Marshal(after)
	if err1 != nil || err2 != nil {
		return
	}
	diff, err := jsonpatch.CreatePatch(beforeJSON, afterJSON)
	if err != nil {
		klog.WithFields(klog.Fields{"name": name}).Warningf("workqueue: reconfigure diff failed: %v", err)
		return
	}
	klog.WithFields(klog.Fields{"name": name, "patch": fmt.Sprintf("%v", diff)}).
		Infof("workqueue: reconfigured")
}
