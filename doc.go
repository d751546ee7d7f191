/*
Package cfddns keeps a fixed set of Cloudflare DNS "A" records pointed at the host's current public IPv4 address.

Usage will always start with [LoadConfig] and [New].
New connects to the provider, checks that every managed name exists in the zone,
and returns a [Client]. [Client.RunOnce] performs a single update;
[Client.Run] polls until its context is cancelled or too many cycles fail in a row.

The address is found by a [Resolver] and records are edited through a [RecordService];
both can be replaced with options to New.
*/
package cfddns
