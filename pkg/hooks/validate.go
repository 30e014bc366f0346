// Copyright 2025 Kadir Pekel
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//     http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hooks

import (
	"fmt"

	"github.com/kadirpekel/wave/pkg/waveconfig"
)

// Validate checks cfg's structural shape (delegating to
// waveconfig.HookConfiguration.Validate) and additionally rejects any
// configured command that fails safety's IsCommandSafe predicate. The two
// are kept as separate steps so a caller that only wants the cheap
// structural check can call cfg.Validate() directly.
func Validate(cfg waveconfig.HookConfiguration, safety waveconfig.CommandSafety) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	for event, groups := range cfg {
		for _, group := range groups {
			for _, cmd := range group.Hooks {
				if !safety.IsCommandSafe(cmd.Command) {
					return fmt.Errorf("hook event %q: command %q is not permitted by command safety policy", event, cmd.Command)
				}
			}
		}
	}
	return nil
}
