package api

import "reflect"

// ImportPath is the path game-object source imports this package by.
const ImportPath = "mudcore/pkg/api"

// Symbols exposes this package to the interpreter. Keys follow the
// "importpath/name" convention of yaegi symbol tables.
var Symbols = map[string]map[string]reflect.Value{
	ImportPath + "/api": {
		"Call":    reflect.ValueOf((*Call)(nil)),
		"TypeDef": reflect.ValueOf((*TypeDef)(nil)),
		"Verb":    reflect.ValueOf((*Verb)(nil)),

		"FlagInteractive":   reflect.ValueOf(FlagInteractive),
		"FlagConnected":     reflect.ValueOf(FlagConnected),
		"FlagLiving":        reflect.ValueOf(FlagLiving),
		"FlagWizard":        reflect.ValueOf(FlagWizard),
		"FlagIdle":          reflect.ValueOf(FlagIdle),
		"FlagEditing":       reflect.ValueOf(FlagEditing),
		"FlagAwaitingInput": reflect.ValueOf(FlagAwaitingInput),
	},
}
