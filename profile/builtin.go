// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package profile

// builtinProfiles are the default templates shipped with burrow.
// System and user profile directories can override them by name.
var builtinProfiles = []string{
	`
name = "web-browser"
description = "Generic graphical web browser"

[service.network]

[service.wayland]

[service.sound]

[service.gpu]

[service.notification]

[service.filesystem]
read_write = ["~/Downloads"]

[service.namespaces]
allow_nested = true
`,
	`
name = "media-player"
description = "Local media playback, no network"

[service.wayland]

[service.sound]

[service.gpu]

[service.filesystem]
read_only = ["~/Music", "~/Videos"]
`,
	`
name = "terminal"
description = "Shell with no host access beyond the instance home"
`,
}
