package awgseq

import (
	"fmt"
	"log"
	"math/big"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"github.com/spf13/viper"

	"github.com/quantrolab/awgseq/internal/pulses"
	"github.com/quantrolab/awgseq/internal/seqdb"
)

// SequenceControl is the sub-server that handles configuration and operation
// of the AWG setup: uploads, arming, table read-back, and pulse composition.
type SequenceControl struct {
	sim *SimulatedAWG
	db  *seqdb.Connection

	status        ServerStatus
	clientUpdates chan<- ClientUpdate
}

// ServerStatus is the status that SequenceControl reports to clients.
type ServerStatus struct {
	Running      bool
	DeviceName   string
	ChannelPairs []string
	SampleRate   float64
}

// ConfigureSimulatedAWG creates the simulated device and registers its
// channel pairs with the active setup.
func (s *SequenceControl) ConfigureSimulatedAWG(args *SimulatedAWGConfig, reply *bool) error {
	log.Printf("ConfigureSimulatedAWG: %q, rate=%.3f, pairs=%v\n", args.Name, args.SampleRate, args.PairIDs)
	awg, err := NewSimulatedAWG(args)
	if err != nil {
		*reply = false
		return err
	}
	setup, err := getSetup()
	if err != nil {
		return err
	}
	s.sim = awg
	awg.Register(setup)

	s.status.Running = true
	s.status.DeviceName = args.Name
	s.status.SampleRate = args.SampleRate
	s.status.ChannelPairs = s.status.ChannelPairs[:0]
	for _, cp := range awg.Pairs() {
		s.status.ChannelPairs = append(s.status.ChannelPairs, cp.Identifier())
	}
	s.broadcastUpdate()
	s.clientUpdates <- ClientUpdate{"SIMAWG", args}
	*reply = true
	return nil
}

// UploadArgs holds the arguments of UploadProgram.
type UploadArgs struct {
	ProgramName string
	Template    string // registry name of the template to compile
	Parameters  map[string]float64
	PairIDs     []string
	Force       bool
}

// UploadProgram compiles a registry template against the given parameters
// and stores the program on each matching channel pair.
func (s *SequenceControl) UploadProgram(args *UploadArgs, reply *bool) error {
	log.Printf("UploadProgram: %q from template %q\n", args.ProgramName, args.Template)
	setup, err := getSetup()
	if err != nil {
		return err
	}
	t, err := setup.Registry.Load(args.Template)
	if err != nil {
		return err
	}
	params := make(map[string]*big.Rat, len(args.Parameters))
	for name, v := range args.Parameters {
		r := new(big.Rat)
		r.SetFloat64(v)
		params[name] = r
	}
	for i, cp := range selectChannelPairs(setup.ChannelPairs(), s.pairIDsOrDefault(args.PairIDs)) {
		if cp == nil {
			return fmt.Errorf("awgseq: no channel pair matches %q", args.PairIDs[i])
		}
		sim, ok := cp.(*SimChannelPair)
		if !ok {
			return fmt.Errorf("awgseq: channel pair %s does not accept uploads", cp.Identifier())
		}
		if err := sim.Upload(args.ProgramName, t, params, args.Force); err != nil {
			return err
		}
	}
	s.clientUpdates <- ClientUpdate{"UPLOAD", args.ProgramName}
	*reply = true
	return nil
}

// ArmArgs holds the arguments of ArmProgram and RemoveProgram.
type ArmArgs struct {
	ProgramName string
	PairIDs     []string
}

// ArmProgram arms the named program on each matching channel pair.
func (s *SequenceControl) ArmProgram(args *ArmArgs, reply *bool) error {
	setup, err := getSetup()
	if err != nil {
		return err
	}
	for i, cp := range selectChannelPairs(setup.ChannelPairs(), s.pairIDsOrDefault(args.PairIDs)) {
		if cp == nil {
			return fmt.Errorf("awgseq: no channel pair matches %q", args.PairIDs[i])
		}
		if err := cp.Arm(args.ProgramName); err != nil {
			return err
		}
		s.db.RecordArm(&seqdb.ArmMessage{
			ChannelPair: cp.Identifier(),
			ProgramName: args.ProgramName,
			Time:        time.Now(),
		})
	}
	s.clientUpdates <- ClientUpdate{"ARM", args.ProgramName}
	*reply = true
	return nil
}

// RemoveProgram drops the named program from each matching channel pair.
func (s *SequenceControl) RemoveProgram(args *ArmArgs, reply *bool) error {
	setup, err := getSetup()
	if err != nil {
		return err
	}
	for i, cp := range selectChannelPairs(setup.ChannelPairs(), s.pairIDsOrDefault(args.PairIDs)) {
		if cp == nil {
			return fmt.Errorf("awgseq: no channel pair matches %q", args.PairIDs[i])
		}
		sim, ok := cp.(*SimChannelPair)
		if !ok {
			return fmt.Errorf("awgseq: channel pair %s does not accept removal", cp.Identifier())
		}
		sim.Remove(args.ProgramName)
	}
	*reply = true
	return nil
}

// SequenceTableArgs holds the arguments of GetSequenceTables.
type SequenceTableArgs struct {
	ProgramName string
	Advanced    bool
	PairIDs     []string
	Verbosity   int
}

// GetSequenceTables is the RPC form of the package-level GetSequenceTables.
func (s *SequenceControl) GetSequenceTables(args *SequenceTableArgs, reply *[]SequencerTableResult) error {
	results, err := GetSequenceTables(args.ProgramName, args.Advanced, args.PairIDs, args.Verbosity)
	if err != nil {
		return err
	}
	*reply = results
	return nil
}

// ComposeArgs holds the arguments of ComposePulse: registry names plus the
// usual options.
type ComposeArgs struct {
	Pulses []string
	Config ComposeConfig
}

// ComposeReply carries the serialized composite template and the resolved
// configuration back to the client.
type ComposeReply struct {
	Template string
	Config   ComposeConfig
}

// ComposePulse is the RPC form of the package-level ComposePulse. The
// composite is also stored back into the registry when an identifier was
// supplied.
func (s *SequenceControl) ComposePulse(args *ComposeArgs, reply *ComposeReply) error {
	refs := make([]PulseRef, len(args.Pulses))
	for i, name := range args.Pulses {
		refs[i] = ByName(name)
	}
	composite, resolved, err := ComposePulse(refs, args.Config)
	if err != nil {
		return err
	}
	data, err := pulses.MarshalTemplate(composite)
	if err != nil {
		return err
	}
	if id := composite.Identifier(); id != "" {
		setup, err := getSetup()
		if err != nil {
			return err
		}
		if err := setup.Registry.Store(id, composite, true); err != nil {
			return err
		}
	}
	resolved.Pulses = nil // names travel in args; refs do not marshal usefully
	reply.Template = string(data)
	reply.Config = resolved
	s.db.RecordCompose(&seqdb.ComposeMessage{
		Identifier: composite.Identifier(),
		NumPulses:  len(args.Pulses),
		FillParam:  resolved.FillParam,
		Prefix:     resolved.Prefix,
		Time:       time.Now(),
	})
	s.clientUpdates <- ClientUpdate{"COMPOSE", composite.Identifier()}
	return nil
}

func (s *SequenceControl) pairIDsOrDefault(ids []string) []string {
	if ids == nil {
		return []string{"AB", "CD"}
	}
	return ids
}

func (s *SequenceControl) broadcastUpdate() {
	s.clientUpdates <- ClientUpdate{"STATUS", s.status}
}

// SendAllStatus causes a broadcast to clients containing all broadcastable
// status info.
func (s *SequenceControl) SendAllStatus(dummy *string, reply *bool) error {
	s.broadcastUpdate()
	s.clientUpdates <- ClientUpdate{"SENDALL", 0}
	*reply = true
	return nil
}

// RunRPCServer sets up and runs a permanent JSON-RPC server. Arm and compose
// events are recorded through db, which may be a disconnected dummy.
func RunRPCServer(messageChan chan<- ClientUpdate, portrpc int, db *seqdb.Connection) {

	// Set up the object to handle remote calls
	sequenceControl := new(SequenceControl)
	sequenceControl.clientUpdates = messageChan
	sequenceControl.db = db

	// Restore the stored device configuration, if any.
	var okay bool
	var sac SimulatedAWGConfig
	log.Printf("awgseq is using config file %s\n", viper.ConfigFileUsed())
	if err := viper.UnmarshalKey("simawg", &sac); err == nil && sac.SampleRate > 0 {
		if err := sequenceControl.ConfigureSimulatedAWG(&sac, &okay); err != nil {
			ProblemLogger.Printf("could not restore simulated AWG: %v\n", err)
		}
	}

	// Now launch the connection handler and accept connections.
	server := rpc.NewServer()
	server.Register(sequenceControl)
	server.HandleHTTP(rpc.DefaultRPCPath, rpc.DefaultDebugPath)
	port := fmt.Sprintf(":%d", portrpc)
	listener, err := net.Listen("tcp", port)
	if err != nil {
		log.Fatal("listen error:", err)
	}
	for {
		if conn, err := listener.Accept(); err != nil {
			log.Fatal("accept error: " + err.Error())
		} else {
			log.Printf("new connection established\n")
			go server.ServeCodec(jsonrpc.NewServerCodec(conn))
		}
	}
}
