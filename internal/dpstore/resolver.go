package dpstore

import (
	"context"
	"log"

	"github.com/rawblock/kangaroo-engine/internal/curve"
)

// ResetDirective tells the server which kangaroo lost a wrong-collision
// and must be reseeded (spec §4.E).
type ResetDirective struct {
	KIdx uint64
}

// Found carries the recovered private key once a verified collision has
// been found.
type Found struct {
	Key curve.Scalar
}

// Resolver is the single consumer of a Store's collision-event channel
// (spec §4.E). It validates each (tame, wild) pair and either reports the
// recovered key or asks the server to reset the offending kangaroo.
type Resolver struct {
	store      *Store
	target     curve.Point
	wildOffset curve.Scalar

	onReset func(ResetDirective)
	onFound func(Found)

	// onCollision is an optional observer notified of every resolved
	// collision, wrong or verified, for persistence (internal/storage).
	// Set via SetCollisionObserver; nil by default.
	onCollision func(event CollisionEvent, recovered bool, key curve.Scalar)
}

// SetCollisionObserver registers fn to be called once per resolved
// collision, after onReset/onFound have already fired. key is the zero
// scalar when recovered is false.
func (r *Resolver) SetCollisionObserver(fn func(event CollisionEvent, recovered bool, key curve.Scalar)) {
	r.onCollision = fn
}

// NewResolver builds a resolver for the given target point P and wild
// offset. onReset and onFound are invoked synchronously from Run's
// goroutine — callers that need to hop threads should make them
// non-blocking.
func NewResolver(store *Store, target curve.Point, wildOffset curve.Scalar, onReset func(ResetDirective), onFound func(Found)) *Resolver {
	return &Resolver{store: store, target: target, wildOffset: wildOffset, onReset: onReset, onFound: onFound}
}

// Run drains the store's collision-event channel until ctx is cancelled.
func (r *Resolver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-r.store.Events():
			r.resolve(event)
		}
	}
}

// resolve implements spec §4.E: k = (T.dist - W.dist + wildOffset) mod n;
// verify k·G == P. A failed verification is a normal "wrong collision"
// path, not an error — it happens whenever a same-x/different-dist pair
// straddles a kangaroo reset.
func (r *Resolver) resolve(event CollisionEvent) {
	tameDist := curve.DistFromBytes24(event.Tame.Dist)
	wildDist := curve.DistFromBytes24(event.Wild.Dist)

	k := curve.ScalarFromDist(tameDist).Sub(curve.ScalarFromDist(wildDist)).Add(r.wildOffset)

	candidate := curve.ScalarBaseMult(k)
	if !candidate.Equal(r.target) {
		log.Printf("[resolver] wrong collision: tame kIdx=%d wild kIdx=%d did not verify, resetting wild kangaroo", event.Tame.KIdx, event.Wild.KIdx)
		if r.onReset != nil {
			r.onReset(ResetDirective{KIdx: event.Wild.KIdx})
		}
		if r.onCollision != nil {
			r.onCollision(event, false, curve.Scalar{})
		}
		return
	}

	log.Printf("[resolver] key recovered from tame kIdx=%d wild kIdx=%d", event.Tame.KIdx, event.Wild.KIdx)
	if r.onFound != nil {
		r.onFound(Found{Key: k})
	}
	if r.onCollision != nil {
		r.onCollision(event, true, k)
	}
}
