// Package ir provides the shared value types of the actor runtime.
//
// All other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Actor state is a Record, a plain string-keyed map owned by exactly one
//     in-flight operation at a time
//   - Commands and events share the Message shape; events additionally
//     carry identity and causal stamps
//   - Event ids are lexically comparable strings, the only ordering key
//   - JSON tags use snake_case
package ir
