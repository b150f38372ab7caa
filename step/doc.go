// Package step holds the concrete steps of a chain and the chain registry.
//
// A step is plain configuration (Definition) built into a Step whose Apply
// composes it onto the stream of the steps before it. Steps that need
// asynchronous per-row work run it through the parallel package; the cache
// step shares one materialization of its upstream among all readers.
//
//	reg, err := step.LoadChains(cfg.Chains, step.Env{Store: store, Fetcher: client})
//	chain, err := reg.Get("pages")
//	preview, err := chain.Preview(job.New(job.PriorityUserInitiated), 20)
package step
