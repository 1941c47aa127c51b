// Package segment keeps lead-to-segment associations consistent with the
// segments' rules.
//
// Four reconciliation operations exist and are deliberately different:
// SynchronizeLead replaces a lead's whole association set,
// SynchronizeSegment only adds newly matching leads, AddLeadToSegment
// attaches a lead only if it currently matches, and RemoveLeadFromSegment
// detaches unconditionally. SynchronizeAll applies SynchronizeLead to every
// lead against one snapshot of the active segments and can be resumed from
// the cursor it returns.
package segment
