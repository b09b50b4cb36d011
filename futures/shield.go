package futures

// Shield returns a Future that mirrors inner's outcome but whose own
// Cancel() never reaches inner — cancelling the awaiter of Shield(inner)
// does not cancel inner itself (spec §4.2 "shield").
func Shield(inner *Future) *Future {
	w := New(inner.loop)
	w.isShield = true
	inner.AddDoneCallback(func(done *Future) {
		v, err := done.Result()
		switch done.State() {
		case Resulted:
			_ = w.SetResult(v)
		default:
			_ = w.SetException(err)
		}
	})
	return w
}
