package app

import "github.com/small-frappuccino/panelcore/pkg/util"

// Version is the current version of the panelcore package.
const Version = util.PanelcoreVersion
