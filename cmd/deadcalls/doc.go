/*
The deadcalls command finds methods of a JVM codebase that are never invoked in production.

	Usage: deadcalls <command> [flags]

The deadcalls command scans compiled classes, jar archives and optionally Java
sources into an inventory of declared methods. Invocations observed at runtime are
reconciled against that inventory: an invocation either matches a declared method
exactly, lands on a subclass that inherits the method from an ancestor, matches
nothing known, or is a framework generated signature that is ignored. Whatever was
never invoked is a candidate for deletion.

# Commands

The scan command prints the inventory of the configured roots:

	$ deadcalls scan --roots build/libs/app.jar --packages com.acme

The report command classifies invocation logs against a fresh scan and prints
every method nobody invoked, followed by the invocations that matched nothing:

	$ deadcalls report --roots build/classes --log prod.log --log staging.log

The agent command keeps an inventory up to date and publishes it together with
the invocations read from stdin (or --input) into --output-dir. It stops when
the input ends or on interrupt, publishing once more on the way out:

	$ tail -F calls.log | deadcalls agent --roots /opt/app --watch

# Invocation logs

One invocation per line, either a raw signature or an epoch millisecond
timestamp and the signature separated by a tab:

	1714564800000	public void com.acme.OrderService.place(java.lang.String)

Blank lines and lines starting with # are skipped.

# Configuration

Settings are read from deadcalls.yaml in the working directory or the file given
by --config, then from DEADCALLS_* environment variables, then from flags.

The --debug flag enables verbose debug output.

# Limitations

Reflection and dynamically generated classes are only recognised when they follow
a known naming scheme. Judge carefully before deleting reported methods.
*/
package main
