// Package memory is the long-term semantic store shared by pipeline runs.
//
// Records are typed by Kind, each with a closed attribute schema checked
// at Put. IDs are derived from kind, content and attributes, so storing
// the same record twice converges on one entry. Namespaces map onto
// vector store collections, which must be provisioned explicitly (see
// Provision); nothing here creates them on the write or search path.
//
//	store := memory.New(backend, memory.OptionsFromConfig(cfg.Memory, cfg.Embeddings),
//		memory.WithScrubber(scrubber), memory.WithLogger(logger))
//	if err := store.Init(ctx); err != nil { ... }
//	id, err := store.Put(ctx, memory.KindDecision, "chose retry", attrs, "")
package memory
