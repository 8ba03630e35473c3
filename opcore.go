package opcore

// PromiseID correlates an asynchronous op call with its eventual result.
// Zero means no correlation was requested.
type PromiseID uint64

// NoPromise is the id of calls that complete synchronously.
const NoPromise PromiseID = 0
