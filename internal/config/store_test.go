package config_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/okian/patpat/internal/config"
	. "github.com/smartystreets/goconvey/convey"
)

func TestStoreSetAndSubscribe(t *testing.T) {
	Convey("Given an empty store", t, func() {
		s := config.NewStore()

		var seen []string
		cancel, err := s.Subscribe(`^groups\.([^.]+)`, func(path string) { seen = append(seen, path) })
		So(err, ShouldBeNil)

		Convey("When a matching path is written", func() {
			So(s.Set("groups.hand.solver.strength", 40), ShouldBeNil)

			Convey("Then the subscriber should see the path", func() {
				So(seen, ShouldResemble, []string{"groups.hand.solver.strength"})
				v, ok := s.Get("groups.hand.solver.strength")
				So(ok, ShouldBeTrue)
				So(v, ShouldEqual, 40)
			})

			Convey("And the parent key should list the child", func() {
				So(s.Keys("groups"), ShouldResemble, []string{"hand"})
			})
		})

		Convey("When a non matching path is written", func() {
			So(s.Set("program.main_tps", 20), ShouldBeNil)
			So(seen, ShouldBeEmpty)
		})

		Convey("When the subscription is cancelled", func() {
			cancel()
			So(s.Set("groups.hand.name", "x"), ShouldBeNil)
			So(seen, ShouldBeEmpty)
		})

		Convey("When a map value replaces an existing subtree", func() {
			So(s.Set("groups.hand", map[string]any{"id": 1, "name": "a"}), ShouldBeNil)
			So(s.Set("groups.hand", map[string]any{"id": 2}), ShouldBeNil)

			Convey("Then stale children should not survive", func() {
				_, ok := s.Get("groups.hand.name")
				So(ok, ShouldBeFalse)
				var g config.GroupConfig
				So(s.Unmarshal("groups.hand", &g), ShouldBeNil)
				So(g.ID, ShouldEqual, 2)
			})
		})

		Convey("When subscribing with an invalid pattern", func() {
			_, err := s.Subscribe(`(`, func(string) {})
			So(errors.Is(err, config.ErrInvalidConfig), ShouldBeTrue)
		})

		Convey("When unmarshalling a missing path", func() {
			var g config.GroupConfig
			So(errors.Is(s.Unmarshal("groups.nope", &g), config.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestStoreCallbacksReenter(t *testing.T) {
	Convey("Given a subscriber that reads the store", t, func() {
		s := config.NewStore()
		var got any
		_, err := s.Subscribe(`^program\.main_tps$`, func(path string) {
			got, _ = s.Get(path)
		})
		So(err, ShouldBeNil)

		Convey("Then the callback should run after the lock is released", func() {
			So(s.Set("program.main_tps", 25), ShouldBeNil)
			So(got, ShouldEqual, 25)
		})
	})
}

func TestStoreReload(t *testing.T) {
	Convey("Given a file backed store", t, func() {
		tmpFile := createTempConfigFile(groupYAML)
		defer func() { _ = os.Remove(tmpFile) }()
		_ = os.Setenv("PATPAT_CONFIG", tmpFile)
		defer clearConfigEnvVars()

		s, err := config.LoadStore(context.Background())
		So(err, ShouldBeNil)
		So(s.Path(), ShouldEqual, tmpFile)

		var seen []string
		_, _ = s.Subscribe(`.*`, func(path string) { seen = append(seen, path) })

		Convey("When the file changes a group and the tick rate", func() {
			updated := groupYAML + "  arm:\n    id: 4\n    name: Arm\n"
			updated = strings.Replace(updated, "main_tps: 50", "main_tps: 30", 1)
			updated = strings.Replace(updated, "strength: 80", "strength: 20", 1)
			So(os.WriteFile(tmpFile, []byte(updated), 0o600), ShouldBeNil)

			changed, err := s.Reload()

			Convey("Then only the changed paths should be reported, collapsed per group", func() {
				So(err, ShouldBeNil)
				want := []string{"groups.arm", "groups.hand", "program.main_tps"}
				So(cmp.Diff(want, changed), ShouldBeEmpty)
				So(cmp.Diff(want, seen), ShouldBeEmpty)

				cfg, err := s.Config()
				So(err, ShouldBeNil)
				So(cfg.Program.MainTPS, ShouldEqual, 30)
				So(cfg.Groups["hand"].Solver.Strength, ShouldEqual, 20)
			})
		})

		Convey("When the file did not change", func() {
			changed, err := s.Reload()
			So(err, ShouldBeNil)
			So(changed, ShouldBeEmpty)
			So(seen, ShouldBeEmpty)
		})

		Convey("When the file becomes invalid", func() {
			So(os.WriteFile(tmpFile, []byte("invalid: yaml: ["), 0o600), ShouldBeNil)
			_, err := s.Reload()

			Convey("Then the previous tree should stay active", func() {
				So(err, ShouldNotBeNil)
				cfg, err := s.Config()
				So(err, ShouldBeNil)
				So(cfg.Program.MainTPS, ShouldEqual, 50)
			})
		})
	})
}

func TestStoreWatchRequiresFile(t *testing.T) {
	Convey("Given an in-memory store", t, func() {
		err := config.NewStore().Watch(context.Background(), nil)
		So(errors.Is(err, config.ErrLoadConfig), ShouldBeTrue)
	})
}
