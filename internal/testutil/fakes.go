package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteScript writes an executable shell script named name into dir and
// returns its path.
func WriteScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("failed to write script %s: %v", path, err)
	}
	return path
}

const scriptHelpers = `
flagval() {
	want="$1"; shift
	while [ $# -gt 0 ]; do
		if [ "$1" = "$want" ]; then echo "$2"; return; fi
		shift
	done
}

hasflag() {
	want="$1"; shift
	for a in "$@"; do
		if [ "$a" = "$want" ]; then return 0; fi
	done
	return 1
}

daemonize() {
	if hasflag --fake-ignore-term "$@"; then
		trap '' TERM
	else
		trap 'echo "terminated"; exit 0' TERM
	fi
	while :; do sleep 0.05; done
}
`

// FakeNodeScript emulates the node executable. "run" records its
// arguments and TEZOS_LOG into the data dir and loops until SIGTERM;
// --fake-ignore-term makes it ignore SIGTERM and --fake-fail-start makes
// it exit at once.
const FakeNodeScript = scriptHelpers + `
sub="$1"; shift
dir=$(flagval --data-dir "$@")
case "$sub" in
identity)
	if [ ! -d "$dir" ]; then echo "Error: data directory $dir does not exist" >&2; exit 1; fi
	echo '{"peer_id":"idsFakePeer","proof_of_work_stamp":"'"$2"'"}' > "$dir/identity.json"
	echo "Stored the new identity (idsFakePeer) into '$dir/identity.json'."
	;;
config)
	if [ ! -d "$dir" ]; then echo "Error: data directory $dir does not exist" >&2; exit 1; fi
	net=$(flagval --net-addr "$@")
	rpc=$(flagval --rpc-addr "$@")
	network=$(flagval --network "$@")
	echo '{"data-dir":"'"$dir"'","network":"'"$network"'","p2p":{"listen-addr":"'"$net"'"},"rpc":{"listen-addrs":["'"$rpc"'"]}}' > "$dir/config.json"
	echo "$@" > "$dir/config.args"
	;;
upgrade)
	if [ ! -d "$dir" ]; then echo "Error: no data directory found at $dir" >&2; exit 1; fi
	echo "storage upgraded"
	;;
snapshot)
	action="$1"
	for last in "$@"; do :; done
	if [ "$action" = "export" ]; then
		echo "snapshot of $dir" > "$last"
		echo "Exported snapshot to $last"
	else
		if [ ! -f "$last" ]; then echo "Error: cannot read snapshot $last" >&2; exit 1; fi
		mkdir -p "$dir"
		echo "$@" > "$dir/import.args"
		echo "Imported snapshot $last"
	fi
	;;
reconstruct)
	echo "$@" > "$dir/reconstruct.args"
	echo "reconstructed"
	;;
run)
	echo "$@" > "$dir/run.args"
	echo "$TEZOS_LOG" > "$dir/run.env"
	if hasflag --fake-fail-start "$@"; then echo "Error: cannot start node" >&2; exit 2; fi
	echo "node is running"
	daemonize "$@"
	;;
*)
	echo "Error: unknown command $sub" >&2
	exit 1
	;;
esac
`

// FakeDaemonScript emulates baker, endorser and accuser executables.
// An argument "crash" makes the daemon exit at startup.
const FakeDaemonScript = scriptHelpers + `
echo "$0 $*"
if hasflag crash "$@"; then echo "Error: unknown account" >&2; exit 1; fi
daemonize "$@"
`

// FakeClientScript emulates the client executables. Every invocation is
// appended to invocations.log in the base dir.
const FakeClientScript = scriptHelpers + `
base=$(flagval -base-dir "$@")
if [ -n "$base" ]; then echo "$*" >> "$base/invocations.log"; fi
while [ $# -gt 0 ]; do
	case "$1" in
	-base-dir|-addr|-port|-endpoint|-w|-block|--mode) shift 2 ;;
	-S|-l) shift ;;
	*) break ;;
	esac
done
case "$*" in
"config update") echo "Config file successfully updated" ;;
"import secret key "*) echo "Tezos address added: tz1$4" ;;
"import encrypted secret key "*)
	printf "Enter password for encrypted key: "
	read pw
	echo
	if [ "$pw" = "wrong" ]; then echo "Error: invalid password" >&2; exit 1; fi
	echo "Tezos address added: tz1$5"
	;;
"gen keys "*) ;;
"bake for "*) echo "Injected block BLockFake1 for $3" ;;
"endorse for "*) printf "Operation successfully injected in the node.\nOperation hash is 'onEndorse1'\n" ;;
"transfer "*|"set delegate for "*|"withdraw delegate from "*)
	printf "Node is bootstrapped.\nOperation successfully injected in the node.\nOperation hash is 'ooTransfer1'\nWaiting for the operation to be included...\nUse command\n  octez-client wait for ooTransfer1 to be included --confirmations 30 --branch BLbranch1\nand/or an external block explorer.\n"
	;;
"originate contract "*)
	printf "Operation hash is 'opOrig1'\n  --branch BLbranch1\nNew contract KT1FakeContract originated.\nContract memorized as %s.\n" "$3"
	;;
"get balance for "*) echo "1000.5 ꜩ" ;;
"get delegate for "*) echo "tz1Delegate (known as bootstrap2)" ;;
"get receipt for onMissing"*) echo "Couldn't find operation" ;;
"get receipt for "*|"wait for "*) echo "Operation found in block: BLincluded1 (pass: 3, offset: 0)" ;;
"run script "*) printf "storage\n  42\nemitted operations\n  \nbig_map diff\n  \n" ;;
"typecheck script "*) echo "Well typed" ;;
"hash data "*)
	printf "Raw packed data: 0x050001\nScript-expression-ID-Hash: exprFake\nRaw Script-expression-ID-Hash: rawFake\nLedger Blake2b hash: blakeFake\nRaw Sha256 hash: shaFake\nRaw Sha512 hash: sha512Fake\nGas remaining: 1039991 units remaining\n"
	;;
"sign bytes "*) printf "Signature: edsigFake\n" ;;
"activate protocol "*) echo "Injected BMactivation" ;;
"submit proposals for "*) echo "Operation hash is 'opProposal1'" ;;
"submit ballot for "*) echo "Ballot submitted" ;;
"inject protocol "*) echo "Injected protocol PrFake successfully" ;;
"list protocols") printf "ProtoALphaALphaALphaALphaALphaALphaALphaALphaDdp3zK\nProtoGenesisGenesisGenesisGenesisGenesisGenesk612im\n" ;;
"p2p stat") echo "GLOBAL STATS" ;;
"bootstrapped") echo "Node is bootstrapped." ;;
"show voting period") echo "Current period: proposal" ;;
"rpc get /chains/main/blocks/head/header/shell") echo '{"level": 3, "proto": 1}' ;;
"rpc get /chains/main/blocks/head/metadata") echo '{"protocol": "ProtoALpha"}' ;;
"rpc get /chains/main/blocks/head") echo '{"hash": "BLhead", "header": {"level": 3}}' ;;
"rpc get /chains/main/blocks/"*) echo '{"hash": "BLother"}' ;;
"rpc get /chains/main/mempool/pending_operations") echo '{"applied":[],"refused":[],"branch_refused":[],"branch_delayed":[],"unprocessed":[]}' ;;
"rpc get /network/points/"*) echo '{}' ;;
"rpc get /not-json") echo 'not json' ;;
"rpc post "*|"rpc put "*) echo '{"accepted": true}' ;;
*)
	printf "Error:\n  Unrecognized command.\n  Try using the man command to get more information.\n  $*\n" >&2
	exit 1
	;;
esac
`

// FakeBinaries populates dir/branch with fake octez executables: node,
// client, admin client, and baker, endorser and accuser for each proto.
// It returns dir.
func FakeBinaries(t *testing.T, dir, branch string, protos ...string) string {
	t.Helper()
	target := filepath.Join(dir, branch)
	if err := os.MkdirAll(target, 0755); err != nil {
		t.Fatalf("failed to create %s: %v", target, err)
	}
	WriteScript(t, target, "octez-node", FakeNodeScript)
	WriteScript(t, target, "octez-client", FakeClientScript)
	WriteScript(t, target, "octez-admin-client", FakeClientScript)
	for _, proto := range protos {
		for _, role := range []string{"baker", "endorser", "accuser"} {
			WriteScript(t, target, "octez-"+role+"-"+proto, FakeDaemonScript)
		}
	}
	return dir
}
