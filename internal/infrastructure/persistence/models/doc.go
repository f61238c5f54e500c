// Package models contains the GORM persistence models of the sync engine.
// Domain types stay free of ORM tags; each model carries its own
// ToDomain/FromDomain mapping and repositories only ever touch models.
//
// Tables:
//   - bundles, bundle_components: the marketplace bundles being published
//   - sync_records: one synchronization state per bundle
//   - pending_operations: in-flight asynchronous publishes
//   - webhook_events: admission log keyed by dedupe key
//   - commerce_orders, entitlements, delivery_trackings: commerce mirrors
package models
