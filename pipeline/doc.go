// Package pipeline runs chains of tasks over a stream of records with durable,
// resumable output.
//
// A Task transforms one record at a time (Process). Optional capabilities add a bulk
// form (BatchProcess), lifecycle hooks (Begin, End) and shard merging (Reduce). The
// package-level functions of the same names supply the defaults, so a task implements
// only the hooks it needs.
//
// Two drivers push a Source through a task chain: StreamingPipeline moves one record
// through the whole chain before pulling the next; BatchPipeline moves bounded chunks
// through BatchProcess. Both produce the same records in the same order.
//
// # Completion markers
//
// A task that persists output embeds Artifact. Its directory is created at construction
// and finalized in End: config.yml (the configuration that produced it), .checksum and
// finally the zero-byte .complete marker. The marker is the only evidence of a finished
// directory; a directory without it is treated as garbage from an aborted run.
//
//	dir/
//	  <task output files>
//	  config.yml
//	  .checksum
//	  .complete
//
// # Multiplexing
//
// Branch turns a record into a MultiplexItem with one copy per split. A MultiplexTask
// routes each split through its own task; NewSplitMultiplexTask gives every split its
// own directory dir/<split> and records the split order in dir/.multiplex. Join folds
// a MultiplexItem back into a single record. MultiplexSource reads multiplexed output
// back as MultiplexItems.
//
// # Shards
//
// Independent jobs may each write a complete copy of a stage's output to
// dir/part0, dir/part1, ... Reduce (driven by Runner.Reduce) folds every complete shard
// into the stage's own directory, in shard order.
package pipeline
