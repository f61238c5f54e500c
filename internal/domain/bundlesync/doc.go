// Package bundlesync contains the Bundle Synchronization bounded context.
// It keeps trainer-authored bundles consistent with their composite offerings on
// the external commerce platform.
//
// Key concepts:
//   - Bundle: internally-authored composite offering of products and services
//   - SyncRecord: persisted per-bundle sync status, guarded by an optimistic version
//   - WebhookEvent: admitted inbound delivery, unique on its dedupe key
//   - PendingOperation: in-flight submit/poll/finalize operation against the platform
//   - ConflictDetector: separates echoes of our own pushes from third-party edits
//   - CommercePlatform: port implemented by the platform adapter
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package bundlesync
