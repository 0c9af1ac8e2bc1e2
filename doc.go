/*
Package ddns implements a dynamic DNS update endpoint.

The endpoint speaks the update protocol used by routers and legacy DDNS clients:
a GET or POST to a path ending in /update carrying the hostname(s), the new IP address(es),
and either HTTP Basic credentials or a token query parameter.
The token is a Cloudflare API token; it is used to find the zone and record for each hostname
and to rewrite the record with the new address.
A short summary of every change can be sent to a Telegram chat.

Usage will always start with [ddns.New],
which returns an [http.Handler].
Additional handler configuration options are listed in the docs for New.
*/
package ddns
