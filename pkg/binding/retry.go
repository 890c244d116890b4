package binding

// MaxModelFetches bounds forced model-fetch attempts within one epoch. An
// epoch is the period during which the (descriptor, model identity,
// workspace) pairing stays stable; any change resets the counter.
const MaxModelFetches = 3

type retryController struct {
	epoch    string
	attempts int
}

// sync resets the counter exactly once when the epoch changes.
func (c *retryController) sync(epoch string) {
	if epoch != c.epoch {
		c.epoch = epoch
		c.attempts = 0
	}
}

func (c *retryController) allow() bool { return c.attempts < MaxModelFetches }

func (c *retryController) note() { c.attempts++ }
