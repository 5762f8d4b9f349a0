// Package dynconf synchronizes business configuration from a remote,
// versioned configuration service into an in-memory typed snapshot,
// applying changes without a restart and degrading to last-known-good
// (or defaults) when the remote is unreachable.
//
// The moving parts:
//
//   - remote.Client (package remote): the abstract fetch/publish/
//     remove/watch contract, with memory, file and NATS JetStream KV
//     backends.
//   - cache.Store (package cache): the local copy of remote entries,
//     keyed by (namespace, group, dataID) and replaced only on version
//     tag change.
//   - Rule / Mapper: a static table translating raw remote fields into
//     typed snapshot attributes, each with a default and an optional
//     transform.
//   - Binder: mapstructure decoding plus whole-snapshot validation.
//   - Manager: the watch loop, listener dispatch and the atomic
//     snapshot swap.
//
// Typical use:
//
//	type AppConfig struct {
//	    LogLevel string        `config:"log_level" validate:"oneof=DEBUG INFO WARNING ERROR"`
//	    PageSize int           `config:"posts_per_page" validate:"min=1"`
//	    Expiry   time.Duration `config:"jwt_expiry" validate:"gt=0"`
//	}
//
//	rules := []dynconf.Rule{
//	    {DataID: "common-config", Field: "log_level", Attr: "log_level", Default: "INFO"},
//	    {DataID: "blog-config", Field: "posts_per_page", Attr: "posts_per_page", Default: 10, Transform: dynconf.ToInt},
//	    {DataID: "common-config", Field: "jwt_expires_hours", Attr: "jwt_expiry",
//	        Default: 24 * time.Hour, Transform: dynconf.DurationFromHours},
//	}
//
//	mgr, err := dynconf.New[AppConfig](client, rules, dynconf.Options{Namespace: "prod"})
//	if err != nil { ... }
//	if err := mgr.Start(ctx); err != nil { ... }
//	defer mgr.Stop(5 * time.Second)
//
//	cfg := mgr.Snapshot() // wait-free, always fully valid
//
// Snapshot readers never block and never observe a partially applied
// configuration; rebuilds are validated wholesale and swapped through a
// single atomic pointer.
package dynconf
