/*
Package merger merges several individually sorted streams of tuples into one
sorted stream, without re-sorting.

We implement:

1. Sources, a pull-based producer abstraction (Source), with three variants
fed by external producers: BufferSource reads encoded chunks,
CollectionSource reads in-memory batches, SingleSource reads one value at a
time.

2. Merger, a k-way merge of sources ordered by a Comparator, optionally in
reverse. Merger is itself a Source, so merges can be nested into trees.

3. Sinks that drain a source into a slice (Collect) or into a single encoded
chunk (EncodeTo), honoring a limit.

# Technical Details

**Producers.**
An external producer is a gen function plus a param and a running state
(Iterator). Every call returns the new state followed by the produced
values; no values or a nil state means the producer is done. Values are
only borrowed for the duration of a call.

**Ownership.**
Tuples are immutable and may be shared freely. Every source has exactly one
owner, which must close it exactly once; a merger owns its children.

**Tie-break.**
When children of a merger hold equal tuples, the child listed first goes
first.

## Binary encoding

**Chunk**: a msgpack array (fixarray, array16 or array32) of tuples.
Sinks size the header for the largest count they may write and patch the
real count in at the end.

**Tuple**: a msgpack array of fields. A tuple may also arrive wrapped into
msgpack extension type 7, whose payload is the format id (unsigned) followed
by the tuple array; the wrapping is stripped on decoding.
*/
package merger
