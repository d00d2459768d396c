package couchbase

// CasSetter is implemented by documents that keep the CAS of their last read.
type CasSetter interface {
	SetCas(cas uint64)
}

// Cas records a document's CAS value. Embed it in document types.
type Cas struct {
	c uint64
}

func (c *Cas) GetCas() uint64 {
	return c.c
}

func (c *Cas) SetCas(cas uint64) {
	c.c = cas
}
