package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"

	"github.com/rno-g/radiantbench/daq"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "daqsim.yml"
	k              = koanf.New(".")
)

// Config is the simulated station
type Config struct {
	Addr string `koanf:"addr" yaml:"addr"`

	// UID overrides the board UID derived from the seed
	UID string `koanf:"uid" yaml:"uid"`

	Curve daq.Curve `koanf:"curve" yaml:"curve"`
	Seed  int64     `koanf:"seed" yaml:"seed"`

	// ForcedTriggers are added to every run, and never qualify
	ForcedTriggers int `koanf:"forcedtriggers" yaml:"forcedtriggers"`
}

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr:  ":8080",
		Curve: daq.Curve{Halfway: 200, Steepness: 30},
		Seed:  1}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `daqsim serves the station run control API on top of a simulated RADIANT,
so that radianttest can be dry run against an HTTP station without a board.
Pulses are posted to /sim/inject by a mock signal generator.

Usage:
	daqsim <command>

Commands:
	run
	mkconf
	conf
	version`
	fmt.Println(str)
}

func loadconf() Config {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	return c
}

func mkconf() {
	c := loadconf()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconf()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func run() {
	c := loadconf()
	st := daq.NewSimStation(c.Curve, c.Seed)
	if c.UID != "" {
		st.UID = c.UID
	}
	st.ForcedTriggers = c.ForcedTriggers
	log.Printf("simulating board %s, halfway %g mVpp steepness %g mVpp", st.UID, c.Curve.Halfway, c.Curve.Steepness)
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, middleware.Logger(daq.NewRouter(st))))
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	switch strings.ToLower(args[1]) {
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "run":
		run()
	case "version":
		fmt.Printf("daqsim version %v\n", Version)
	default:
		log.Fatal("unknown command")
	}
}
