// Package sources holds what the built-in source plugins share: the HTTP
// client they fetch through and the helpers that turn transport failures into
// the error strings recorded in partial payloads.
//
// Each plugin lives in its own subpackage:
//   - parliament: Open Parliament bills and Hansard keyword counts
//   - statcan: Statistics Canada WDS bilateral trade tables
//   - news: RSS feeds filtered by keyword, de-duplicated and classified
//   - press: HTML press-room listings such as the MFA press conferences
//   - markets: Chinese market index quotes with a short sparkline
//
// The builtin subpackage registers all of them with a plugin.Registry.
package sources
