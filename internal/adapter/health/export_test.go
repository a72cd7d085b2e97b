package health

// WithHost points the checker at host instead of the loopback address.
func (c *Checker) WithHost(host string) *Checker {
	c.host = host
	return c
}
