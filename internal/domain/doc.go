// Package domain defines the core business types for lead scoring and
// segmentation.
//
// Types in this package are plain value objects shared by the scoring
// engine, the segment synchronizer, the stores and the operator surfaces.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Pure accessors and validation methods are allowed
//   - Constants and enums belong here
package domain
