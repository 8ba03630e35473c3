// Package resource provides the resource table carried by op state.
//
// Ops hand integer ids to script code instead of host objects. The table
// maps ids back to objects:
//
//	table := resource.NewTable()
//
//	id, err := table.Add(buf)
//	r, err := table.Get(id)
//	buf, err := resource.Get[*Buffer](table, id)
//	err = table.Close(id)
//
// # Borrows
//
// An asynchronous op that keeps using a resource across a suspension point
// borrows it so a concurrent op_close cannot pull it out from under it:
//
//	r, err := table.Borrow(id)
//	defer table.Release(id)
//
// Closing a borrowed resource fails with a busy error until every borrow
// has been released. CloseAll ignores borrows; it runs when the session ends.
//
// # Observers
//
// Observers receive EventAdded, EventClosed, EventBorrowed and EventReleased
// notifications synchronously.
package resource
