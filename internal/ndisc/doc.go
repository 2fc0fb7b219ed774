/*
Copyright 2026 jr42.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package ndisc implements the IPv6 neighbor discovery engine behind
// stateless address autoconfiguration: it solicits Router Advertisements,
// merges the gateways, prefixes, routes and DNS information they carry into
// a preference-ordered, lifetime-tracked snapshot, synthesises per-host
// addresses from advertised prefixes, ages out all learned state and tells
// its consumer what changed.
//
// One Engine is bound to one network interface. Incoming advertisements are
// decoded by a Transport and handed to HandleRA; the kernel reports
// duplicate-address outcomes through DADFailed; the consumer observes
// everything through the ConfigChanged callback's snapshots.
package ndisc
