package analyzers

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestScanImports(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []ImportRef
	}{
		{
			name: "plain imports",
			src:  "import os\nimport json, tkinter.ttk as ttk\n",
			want: []ImportRef{
				{Module: "os", Line: 1},
				{Module: "json", Line: 2},
				{Module: "tkinter.ttk", Line: 2},
			},
		},
		{
			name: "from import",
			src:  "from tkinter import ttk, messagebox as mb\n",
			want: []ImportRef{
				{Module: "tkinter", Names: []string{"ttk", "messagebox"}, Line: 1},
			},
		},
		{
			name: "relative imports",
			src:  "from . import helper\nfrom ..models import Item\n",
			want: []ImportRef{
				{Module: "", Names: []string{"helper"}, Level: 1, Line: 1},
				{Module: "models", Names: []string{"Item"}, Level: 2, Line: 2},
			},
		},
		{
			name: "parenthesized multiline",
			src:  "from helper import (\n    load,  # comment\n    save,\n)\nimport csv\n",
			want: []ImportRef{
				{Module: "helper", Names: []string{"load", "save"}, Line: 1},
				{Module: "csv", Line: 5},
			},
		},
		{
			name: "backslash continuation",
			src:  "import os, \\\n    sys\n",
			want: []ImportRef{
				{Module: "os", Line: 1},
				{Module: "sys", Line: 1},
			},
		},
		{
			name: "strings and comments are ignored",
			src:  "# import secret\nx = 'import nope'\n\"\"\"\nimport docstring\n\"\"\"\nimport real\n",
			want: []ImportRef{
				{Module: "real", Line: 6},
			},
		},
		{
			name: "conditional and inline imports",
			src:  "try: import ujson as json\nexcept ImportError: import json\nimport a; import b\n",
			want: []ImportRef{
				{Module: "ujson", Line: 1},
				{Module: "json", Line: 2},
				{Module: "a", Line: 3},
				{Module: "b", Line: 3},
			},
		},
		{
			name: "literal dynamic imports",
			src:  "mod = __import__('plugins.csv')\nimport importlib\nx = importlib.import_module(\"plugins.xlsx\")\n",
			want: []ImportRef{
				{Module: "plugins.csv", Line: 1},
				{Module: "importlib", Line: 2},
				{Module: "plugins.xlsx", Line: 3},
			},
		},
		{
			name: "non-literal dynamic imports",
			src:  "m = __import__(name)\nn = importlib.import_module('plugins.' + kind)\n",
			want: []ImportRef{
				{Dynamic: true, Line: 1},
				{Dynamic: true, Line: 2},
			},
		},
		{
			name: "package data",
			src:  "data = pkgutil.get_data('app.assets', 'defaults.json')\n",
			want: []ImportRef{
				{Module: "app.assets", DataFile: "defaults.json", Line: 1},
			},
		},
		{
			name: "star import",
			src:  "from helper import *\n",
			want: []ImportRef{
				{Module: "helper", Names: []string{"*"}, Line: 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScanImports([]byte(tt.src))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ScanImports mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
